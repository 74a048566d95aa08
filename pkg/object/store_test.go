package object

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestHashBytesDeterminism(t *testing.T) {
	data := []byte("hello world")
	h1 := HashBytes(data)
	h2 := HashBytes(data)
	if h1 != h2 {
		t.Errorf("HashBytes not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != HashSize {
		t.Errorf("Hash length: got %d, want %d", len(h1), HashSize)
	}
}

func TestHashObjectEnvelope(t *testing.T) {
	data := []byte("hello")
	h1 := HashObject(TypeBlob, data)
	h2 := HashBytes(data)
	if h1 == h2 {
		t.Error("HashObject should differ from HashBytes due to envelope")
	}

	// Same type+data => same hash
	if h3 := HashObject(TypeBlob, data); h1 != h3 {
		t.Error("HashObject not deterministic")
	}

	// Different type => different hash
	if h4 := HashObject(TypeTree, data); h1 == h4 {
		t.Error("Different types should produce different hashes")
	}
}

func TestValidateHash(t *testing.T) {
	tests := []struct {
		name    string
		in      Hash
		wantErr bool
	}{
		{name: "valid", in: HashBytes([]byte("x"))},
		{name: "short", in: "abc", wantErr: true},
		{name: "uppercase", in: Hash("A" + string(HashBytes([]byte("x")))[1:]), wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateHash(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateHash(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
		})
	}
}

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir)
}

func TestStorePutGet(t *testing.T) {
	s := tempStore(t)
	data := []byte("hello world")
	h, err := s.Put(TypeBlob, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	gotType, gotData, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotType != TypeBlob {
		t.Errorf("Type: got %q, want %q", gotType, TypeBlob)
	}
	if !bytes.Equal(gotData, data) {
		t.Errorf("Data: got %q, want %q", gotData, data)
	}
}

func TestStoreHas(t *testing.T) {
	s := tempStore(t)
	h, err := s.Put(TypeBlob, []byte("exists"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.Has(h) {
		t.Error("Has returned false for existing object")
	}
	if s.Has(HashBytes([]byte("missing"))) {
		t.Error("Has returned true for non-existing object")
	}
	if s.Has("not-a-hash") {
		t.Error("Has returned true for a malformed hash")
	}
}

func TestStoreFanoutLayout(t *testing.T) {
	s := tempStore(t)
	h, err := s.Put(TypeBlob, []byte("fanout test"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	objPath := filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
	if _, err := os.Stat(objPath); os.IsNotExist(err) {
		t.Errorf("Expected fan-out file at %s", objPath)
	}
}

func TestStorePutIdempotent(t *testing.T) {
	s := tempStore(t)
	data := []byte("duplicate")
	h1, err := s.Put(TypeBlob, data)
	if err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	n1, err := s.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}

	h2, err := s.Put(TypeBlob, data)
	if err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if h1 != h2 {
		t.Errorf("Same content produced different hashes: %q vs %q", h1, h2)
	}
	n2, err := s.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n1 != 1 || n2 != n1 {
		t.Errorf("store size after duplicate put = %d (before %d), want 1", n2, n1)
	}
}

func TestStoreKindTagSeparatesObjects(t *testing.T) {
	s := tempStore(t)
	data := []byte("")
	hb, err := s.Put(TypeBlob, data)
	if err != nil {
		t.Fatalf("Put blob: %v", err)
	}
	ht, err := s.Put(TypeTree, data)
	if err != nil {
		t.Fatalf("Put tree: %v", err)
	}
	if hb == ht {
		t.Fatal("empty blob and empty tree share a hash")
	}
	if n, _ := s.Len(); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
}

func TestStoreConcurrentIdenticalPut(t *testing.T) {
	s := tempStore(t)
	data := []byte("racing writers")
	want := HashObject(TypeBlob, data)

	const workers = 32
	var wg sync.WaitGroup
	hashes := make([]Hash, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hashes[i], errs[i] = s.Put(TypeBlob, data)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d Put: %v", i, errs[i])
		}
		if hashes[i] != want {
			t.Fatalf("worker %d hash = %s, want %s", i, hashes[i], want)
		}
	}

	_, got, err := s.Get(want)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Get = %q, want %q", got, data)
	}
	if n, _ := s.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1 (temp files must not linger)", n)
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := tempStore(t)
	_, _, err := s.Get(HashBytes([]byte("nope")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
	}
}

func TestStorePutRejectsUnknownType(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Put(ObjectType("tag"), []byte("x")); err == nil {
		t.Fatal("Put with unknown type should fail")
	}
}

func TestStoreWriteReadBlob(t *testing.T) {
	s := tempStore(t)
	orig := &Blob{Data: []byte("blob content\nwith newlines")}
	h, err := s.WriteBlob(orig)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	got, err := s.ReadBlob(h)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if !bytes.Equal(got.Data, orig.Data) {
		t.Errorf("Blob round-trip: got %q, want %q", got.Data, orig.Data)
	}
}

func TestStoreReadTypeMismatch(t *testing.T) {
	s := tempStore(t)
	h, err := s.WriteBlob(&Blob{Data: []byte("not a tree")})
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if _, err := s.ReadTree(h); err == nil {
		t.Fatal("ReadTree on a blob should fail")
	}
}

func TestStoreWriteTreeSortsAndValidates(t *testing.T) {
	s := tempStore(t)
	blob, err := s.WriteBlob(&Blob{Data: []byte("a")})
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	sub, err := s.WriteTree(&TreeObj{Entries: []TreeEntry{{Name: "inner.txt", Kind: TypeBlob, Hash: blob}}})
	if err != nil {
		t.Fatalf("WriteTree(sub): %v", err)
	}

	h, err := s.WriteTree(&TreeObj{Entries: []TreeEntry{
		{Name: "pkg", Kind: TypeTree, Hash: sub},
		{Name: "main.go", Mode: TreeModeExecutable, Kind: TypeBlob, Hash: blob},
	}})
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	got, err := s.ReadTree(h)
	if err != nil {
		t.Fatalf("ReadTree: %v", err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("Entries length: got %d, want 2", len(got.Entries))
	}
	if got.Entries[0].Name != "main.go" || got.Entries[1].Name != "pkg" {
		t.Errorf("Tree entries not sorted correctly: %+v", got.Entries)
	}
	if got.Entries[0].Mode != TreeModeExecutable {
		t.Errorf("main.go mode = %q, want %q", got.Entries[0].Mode, TreeModeExecutable)
	}
	if got.Entries[1].Mode != TreeModeDir || !got.Entries[1].IsDir() {
		t.Errorf("pkg entry = %+v, want directory", got.Entries[1])
	}
}

func TestStoreWriteTreeRejectsDanglingEntry(t *testing.T) {
	s := tempStore(t)
	_, err := s.WriteTree(&TreeObj{Entries: []TreeEntry{
		{Name: "ghost.txt", Kind: TypeBlob, Hash: HashBytes([]byte("never stored"))},
	}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("WriteTree dangling: err = %v, want ErrNotFound", err)
	}
}

func TestStoreWriteTreeRejectsBadNames(t *testing.T) {
	s := tempStore(t)
	blob, err := s.WriteBlob(&Blob{Data: []byte("a")})
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	for _, name := range []string{"", ".", "..", "a/b", "line\nbreak"} {
		_, err := s.WriteTree(&TreeObj{Entries: []TreeEntry{{Name: name, Kind: TypeBlob, Hash: blob}}})
		if err == nil {
			t.Errorf("WriteTree accepted entry name %q", name)
		}
	}
	_, err = s.WriteTree(&TreeObj{Entries: []TreeEntry{
		{Name: "dup", Kind: TypeBlob, Hash: blob},
		{Name: "dup", Kind: TypeBlob, Hash: blob},
	}})
	if err == nil {
		t.Error("WriteTree accepted duplicate names")
	}
}

func TestStoreWriteTreeRejectsKindMismatch(t *testing.T) {
	s := tempStore(t)
	blob, err := s.WriteBlob(&Blob{Data: []byte("a")})
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if _, err := s.WriteTree(&TreeObj{Entries: []TreeEntry{{Name: "d", Kind: TypeTree, Hash: blob}}}); err == nil {
		t.Fatal("WriteTree accepted a tree entry pointing at a blob")
	}
}

func TestStoreWriteCommitRequiresParents(t *testing.T) {
	s := tempStore(t)
	tree, err := s.WriteTree(&TreeObj{})
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}

	_, err = s.WriteCommit(&CommitObj{
		TreeHash: tree,
		Parents:  []Hash{HashBytes([]byte("missing parent"))},
		Author:   "tester",
		Message:  "orphan",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("WriteCommit missing parent: err = %v, want ErrNotFound", err)
	}

	root, err := s.WriteCommit(&CommitObj{TreeHash: tree, Author: "tester", Timestamp: 1, Message: "root"})
	if err != nil {
		t.Fatalf("WriteCommit(root): %v", err)
	}
	child, err := s.WriteCommit(&CommitObj{TreeHash: tree, Parents: []Hash{root}, Author: "tester", Timestamp: 2, Message: "child"})
	if err != nil {
		t.Fatalf("WriteCommit(child): %v", err)
	}
	got, err := s.ReadCommit(child)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(got.Parents) != 1 || got.Parents[0] != root {
		t.Fatalf("Parents = %v, want [%s]", got.Parents, root)
	}
}

func TestStoreWriteCommitRequiresTree(t *testing.T) {
	s := tempStore(t)
	_, err := s.WriteCommit(&CommitObj{TreeHash: HashBytes([]byte("no tree")), Author: "tester"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("WriteCommit missing tree: err = %v, want ErrNotFound", err)
	}
}

func TestReachableExcluding(t *testing.T) {
	s := tempStore(t)
	blobA, _ := s.WriteBlob(&Blob{Data: []byte("a")})
	blobB, _ := s.WriteBlob(&Blob{Data: []byte("b")})
	treeA, err := s.WriteTree(&TreeObj{Entries: []TreeEntry{{Name: "f", Kind: TypeBlob, Hash: blobA}}})
	if err != nil {
		t.Fatalf("WriteTree(a): %v", err)
	}
	treeB, err := s.WriteTree(&TreeObj{Entries: []TreeEntry{
		{Name: "f", Kind: TypeBlob, Hash: blobA},
		{Name: "g", Kind: TypeBlob, Hash: blobB},
	}})
	if err != nil {
		t.Fatalf("WriteTree(b): %v", err)
	}
	c1, err := s.WriteCommit(&CommitObj{TreeHash: treeA, Author: "t", Message: "one"})
	if err != nil {
		t.Fatalf("WriteCommit(c1): %v", err)
	}
	c2, err := s.WriteCommit(&CommitObj{TreeHash: treeB, Parents: []Hash{c1}, Author: "t", Message: "two"})
	if err != nil {
		t.Fatalf("WriteCommit(c2): %v", err)
	}

	all, err := s.ReachableSet([]Hash{c2})
	if err != nil {
		t.Fatalf("ReachableSet: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("ReachableSet size = %d, want 6", len(all))
	}

	delta, err := s.ReachableExcluding([]Hash{c2}, []Hash{c1})
	if err != nil {
		t.Fatalf("ReachableExcluding: %v", err)
	}
	for _, want := range []Hash{c2, treeB, blobB} {
		if _, ok := delta[want]; !ok {
			t.Errorf("delta missing %s", want)
		}
	}
	if len(delta) != 3 {
		t.Errorf("delta size = %d, want 3", len(delta))
	}
}
