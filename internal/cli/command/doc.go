// Package command defines the ckptctl commands.
//
// ckptctl reads an agent's stored checkpoints through the same backends
// ckpt-agent writes with. It never claims ownership, so it can run next to
// a live agent. Results go to the app's writer in the format chosen by
// --output.
package command
