package bodysim

import "github.com/gogpu/bodysim/internal/gpu/bodycompute"

// Encode writes b as record i of dst, at float offset i*FloatsPerRecord.
// It panics if record i does not fit in dst.
func Encode(dst []byte, i int, b Body) {
	bodycompute.StoreBody(dst, i, b)
}

// Decode reads record i of src.
// It panics if record i does not fit in src.
func Decode(src []byte, i int) Body {
	return bodycompute.LoadBody(src, i)
}

// DecodeAll reads records [0, n) of src.
func DecodeAll(src []byte, n int) []Body {
	return bodycompute.LoadBodies(src, n)
}
