package delta

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("delta: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxArrayElements: 1 << 24,
	}.DecMode()
	if err != nil {
		panic("delta: CBOR decoder initialization failed: " + err.Error())
	}
}

func newStreamEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }

func newStreamDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
