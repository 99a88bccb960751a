package object

import (
	"strings"

	"github.com/multiformats/go-base32"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
	"lukechampine.com/blake3"
)

// Kind tags the variant an ID or Object belongs to.
type Kind string

const (
	KindLeaf      Kind = "lef"
	KindBranch    Kind = "bra"
	KindDirectory Kind = "dir"
	KindFile      Kind = "fil"
	KindSymlink   Kind = "sym"
	KindGraph     Kind = "gph"
	KindCommand   Kind = "cmd"
	KindError     Kind = "err"
)

// ID is a content-addressed identifier: KIND_BODY, where BODY is the
// base-32 encoding of BLAKE3(serialized bytes) for hash-addressed
// kinds. Identifier equality is data equality for every Kind here;
// process IDs (kind pcs) are time-ordered instead and are defined in
// package process.
type ID struct {
	Kind Kind
	Body string
}

// NewID computes the ID of data under kind, per spec.md §3.1 / §4.1:
// id = kind_tag || base32(BLAKE3(bytes)).
func NewID(kind Kind, data []byte) ID {
	sum := blake3.Sum256(data)
	return ID{Kind: kind, Body: base32.RawStdEncoding.EncodeToString(sum[:])}
}

func (id ID) String() string {
	return string(id.Kind) + "_" + id.Body
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id.Kind == "" && id.Body == ""
}

// ParseID parses a KIND_BODY string, validating that the kind is a
// known tag. It does not verify the body is a well-formed hash; that
// is deserialize's job (the caller must additionally check, on
// deserialization, that the body matches the hash of the decoded
// bytes before trusting the ID — see VerifyID).
func ParseID(s string) (ID, error) {
	idx := strings.IndexByte(s, '_')
	if idx < 0 {
		return ID{}, tgerror.New(tgerror.CodeInvalidKind, "malformed id %q: missing kind separator", s)
	}
	kind := Kind(s[:idx])
	switch kind {
	case KindLeaf, KindBranch, KindDirectory, KindFile, KindSymlink, KindGraph, KindCommand, KindError:
	default:
		return ID{}, tgerror.New(tgerror.CodeInvalidKind, "unknown object kind %q", kind)
	}
	return ID{Kind: kind, Body: s[idx+1:]}, nil
}

// MustParseID is ParseID but panics on error; for use with literal IDs.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// VerifyID reports whether id is the correct identifier for data,
// i.e. id.Kind matches expectedKind and id.Body equals
// base32(BLAKE3(data)). The import/export protocol (spec.md §6.2)
// requires every received Item::Object to pass this check before
// being trusted.
func VerifyID(id ID, expectedKind Kind, data []byte) bool {
	if id.Kind != expectedKind {
		return false
	}
	want := NewID(expectedKind, data)
	return id.Body == want.Body
}
