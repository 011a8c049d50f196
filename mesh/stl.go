package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	// HeaderSize is the fixed binary STL header length.
	HeaderSize = 80
	// TriangleSize is the on-disk size of one facet record.
	TriangleSize = 50
	// MinSize is header plus the triangle count.
	MinSize = HeaderSize + 4
	// MaxTriangles bounds the declared count a decoder will accept.
	MaxTriangles = 10_000_000
	// ContentType is the media type served for encoded meshes.
	ContentType = "model/stl"
)

const headerText = "cadflow binary STL"

// Vec3 is a single-precision 3-vector, matching the on-disk layout.
type Vec3 [3]float32

// Triangle is one facet: a normal, three vertices and the attribute byte count.
type Triangle struct {
	Normal Vec3
	V      [3]Vec3
	Attr   uint16
}

// DecodeErrorKind distinguishes short buffers from inconsistent ones.
type DecodeErrorKind int

const (
	Truncated DecodeErrorKind = iota + 1
	Malformed
)

func (k DecodeErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// DecodeError reports why a buffer could not be decoded.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("stl %s: %s", e.Kind, e.Msg)
}

// Is lets errors.Is match on kind alone.
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind && t.Msg == ""
}

// Sentinel values for errors.Is.
var (
	ErrTruncated = &DecodeError{Kind: Truncated}
	ErrMalformed = &DecodeError{Kind: Malformed}
)

func header() [HeaderSize]byte {
	var h [HeaderSize]byte
	for i := range h {
		h[i] = ' '
	}
	copy(h[:], headerText)
	return h
}

// Encode serializes tris as binary STL. The output is deterministic.
func Encode(tris []Triangle) []byte {
	buf := make([]byte, MinSize+TriangleSize*len(tris))
	h := header()
	copy(buf, h[:])
	binary.LittleEndian.PutUint32(buf[HeaderSize:], uint32(len(tris)))
	off := MinSize
	for i := range tris {
		putTriangle(buf[off:off+TriangleSize], &tris[i])
		off += TriangleSize
	}
	return buf
}

// EncodeTo streams the binary STL encoding of tris to w.
func EncodeTo(w io.Writer, tris []Triangle) error {
	bw := bufio.NewWriter(w)
	h := header()
	if _, err := bw.Write(h[:]); err != nil {
		return err
	}
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(tris)))
	if _, err := bw.Write(count[:]); err != nil {
		return err
	}
	var rec [TriangleSize]byte
	for i := range tris {
		putTriangle(rec[:], &tris[i])
		if _, err := bw.Write(rec[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func putTriangle(dst []byte, t *Triangle) {
	putVec(dst[0:12], t.Normal)
	putVec(dst[12:24], t.V[0])
	putVec(dst[24:36], t.V[1])
	putVec(dst[36:48], t.V[2])
	binary.LittleEndian.PutUint16(dst[48:50], t.Attr)
}

func putVec(dst []byte, v Vec3) {
	binary.LittleEndian.PutUint32(dst[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(dst[8:], math.Float32bits(v[2]))
}

func getVec(src []byte) Vec3 {
	return Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(src[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
	}
}

// ReadTriangleCount validates the header region and returns the declared count.
func ReadTriangleCount(b []byte) (int, error) {
	if len(b) < MinSize {
		return 0, &DecodeError{Kind: Truncated, Msg: fmt.Sprintf("need %d header bytes, have %d", MinSize, len(b))}
	}
	n := binary.LittleEndian.Uint32(b[HeaderSize:MinSize])
	if n > MaxTriangles {
		return 0, &DecodeError{Kind: Malformed, Msg: fmt.Sprintf("declared %d triangles exceeds limit %d", n, MaxTriangles)}
	}
	return int(n), nil
}

// Decode parses a binary STL buffer. Trailing bytes past the declared
// triangles are ignored.
func Decode(b []byte) ([]Triangle, error) {
	n, err := ReadTriangleCount(b)
	if err != nil {
		return nil, err
	}
	need := MinSize + TriangleSize*n
	if len(b) < need {
		return nil, &DecodeError{
			Kind: Truncated,
			Msg:  fmt.Sprintf("declared %d triangles need %d bytes, have %d", n, need, len(b)),
		}
	}
	tris := make([]Triangle, n)
	off := MinSize
	for i := range tris {
		rec := b[off : off+TriangleSize]
		tris[i] = Triangle{
			Normal: getVec(rec[0:12]),
			V:      [3]Vec3{getVec(rec[12:24]), getVec(rec[24:36]), getVec(rec[36:48])},
			Attr:   binary.LittleEndian.Uint16(rec[48:50]),
		}
		off += TriangleSize
	}
	return tris, nil
}
