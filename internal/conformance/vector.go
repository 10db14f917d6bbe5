// Package conformance loads, verifies and generates canonicalization test
// vectors.
//
// A vector is a directory holding raw.json (the submitted bytes),
// canonical.json (the exact canonical form, no trailing newline) and
// expected.json (hash, byte length and notes). A vector whose expected.json
// carries a rejection instead has no canonical.json and must fail with that
// reason and path.
package conformance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

// File names inside a vector directory.
const (
	RawFile       = "raw.json"
	CanonicalFile = "canonical.json"
	ExpectedFile  = "expected.json"
)

// Expected is the content of expected.json.
type Expected struct {
	Hash       string             `json:"hash,omitempty"`
	ByteLength int                `json:"byte_length,omitempty"`
	Rejection  *ExpectedRejection `json:"rejection,omitempty"`
	Notes      []string           `json:"notes"`
}

// ExpectedRejection names the rejection a negative vector must produce.
type ExpectedRejection struct {
	Reason string `json:"reason"`
	Path   string `json:"path,omitempty"`
}

// Vector is one loaded case.
type Vector struct {
	Name      string
	Dir       string
	Raw       []byte
	Canonical []byte
	Expected  Expected
}

// Result is the outcome of verifying one vector.
type Result struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Hash     string   `json:"hash,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// LoadCase reads the vector in dir.
func LoadCase(dir string) (*Vector, error) {
	v := &Vector{Name: filepath.Base(dir), Dir: dir}

	var err error
	if v.Raw, err = os.ReadFile(filepath.Join(dir, RawFile)); err != nil {
		return nil, fmt.Errorf("vector %s: %w", v.Name, err)
	}
	exp, err := os.ReadFile(filepath.Join(dir, ExpectedFile))
	if err != nil {
		return nil, fmt.Errorf("vector %s: %w", v.Name, err)
	}
	if err := json.Unmarshal(exp, &v.Expected); err != nil {
		return nil, fmt.Errorf("vector %s: %s: %w", v.Name, ExpectedFile, err)
	}
	if v.Expected.Rejection != nil {
		return v, nil
	}
	if v.Canonical, err = os.ReadFile(filepath.Join(dir, CanonicalFile)); err != nil {
		return nil, fmt.Errorf("vector %s: %w", v.Name, err)
	}
	return v, nil
}

// Load reads every vector directly under root, sorted by name. Directories
// without a raw.json are skipped.
func Load(root string) ([]*Vector, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}

	var out []*Vector
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, RawFile)); errors.Is(err, os.ErrNotExist) {
			continue
		}
		v, err := LoadCase(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *Vector) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

// Verify canonicalizes the raw input and compares it against the vector.
func Verify(v *Vector) Result {
	r := Result{Name: v.Name}
	fail := func(format string, args ...any) {
		r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
	}

	can, err := intent.Normalize(v.Raw)
	if want := v.Expected.Rejection; want != nil {
		var rej *intent.Rejection
		switch {
		case err == nil:
			fail("expected rejection %s, got hash %s", want.Reason, can.Hash)
		case !errors.As(err, &rej):
			fail("expected rejection %s, got %v", want.Reason, err)
		case string(rej.Reason) != want.Reason || rej.Path != want.Path:
			fail("expected rejection %s at %q, got %s at %q", want.Reason, want.Path, rej.Reason, rej.Path)
		}
		r.Passed = len(r.Problems) == 0
		return r
	}

	if err != nil {
		fail("canonicalize: %v", err)
		return r
	}
	r.Hash = can.Hash.String()
	if !bytes.Equal(can.Bytes, v.Canonical) {
		fail("canonical bytes differ:\n  want %s\n  got  %s", v.Canonical, can.Bytes)
	}
	if r.Hash != v.Expected.Hash {
		fail("hash: want %s, got %s", v.Expected.Hash, r.Hash)
	}
	if len(can.Bytes) != v.Expected.ByteLength {
		fail("byte_length: want %d, got %d", v.Expected.ByteLength, len(can.Bytes))
	}
	r.Passed = len(r.Problems) == 0
	return r
}

// VerifyDir loads and verifies every vector under root.
func VerifyDir(root string) ([]Result, error) {
	vectors, err := Load(root)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(vectors))
	for _, v := range vectors {
		results = append(results, Verify(v))
	}
	return results, nil
}

// Generate canonicalizes raw and writes a new vector into dir. It refuses
// to overwrite an existing vector.
func Generate(dir string, raw []byte, notes []string) (*Vector, error) {
	if _, err := os.Stat(filepath.Join(dir, ExpectedFile)); err == nil {
		return nil, fmt.Errorf("generate %s: vector already exists", dir)
	}

	v := &Vector{Name: filepath.Base(dir), Dir: dir, Raw: raw}
	can, err := intent.Normalize(raw)
	if err != nil {
		var rej *intent.Rejection
		if !errors.As(err, &rej) {
			return nil, err
		}
		v.Expected = Expected{Rejection: &ExpectedRejection{Reason: string(rej.Reason), Path: rej.Path}, Notes: notes}
	} else {
		v.Canonical = can.Bytes
		v.Expected = Expected{Hash: can.Hash.String(), ByteLength: len(can.Bytes), Notes: notes}
	}
	if v.Expected.Notes == nil {
		v.Expected.Notes = []string{}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("generate %s: %w", dir, err)
	}
	exp, err := json.MarshalIndent(v.Expected, "", "  ")
	if err != nil {
		return nil, err
	}
	files := map[string][]byte{
		RawFile:      raw,
		ExpectedFile: append(exp, '\n'),
	}
	if v.Canonical != nil {
		files[CanonicalFile] = v.Canonical
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return nil, fmt.Errorf("generate %s: %w", dir, err)
		}
	}
	return v, nil
}
