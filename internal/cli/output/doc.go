// Package output renders ckptctl results as aligned tables, JSON or YAML.
//
// Table output is derived from struct fields: the json tag names the
// column and a table:"wide" tag hides the column unless wide output is
// requested. JSON and YAML output always include every field.
package output
