package router

import (
	"testing"

	"github.com/dividuum/info-beamer/internal/tree"
)

func TestParseDatagramColonDialect(t *testing.T) {
	addr, data, isOSC, errToken := parseDatagram([]byte("top/say:hello"))
	if errToken != "" {
		t.Fatalf("errToken = %q, want none", errToken)
	}
	if addr != "top/say" || string(data) != "hello" || isOSC {
		t.Fatalf("got (%q,%q,%v)", addr, data, isOSC)
	}
}

func TestParseDatagramColonDialectNoTerminator(t *testing.T) {
	_, _, _, errToken := parseDatagram([]byte("nocolonhere"))
	if errToken != "fmt\n" {
		t.Fatalf("errToken = %q, want fmt\\n", errToken)
	}
}

func TestParseDatagramOSCDialect(t *testing.T) {
	raw := []byte("/top/say\x00\x00\x00\x00payload")
	addr, data, isOSC, errToken := parseDatagram(raw)
	if errToken != "" {
		t.Fatalf("errToken = %q", errToken)
	}
	if !isOSC {
		t.Fatal("expected isOSC = true")
	}
	if addr != "top/say" {
		t.Fatalf("address = %q", addr)
	}
	if string(data) != "payload" {
		t.Fatalf("data = %q", data)
	}
}

func TestParseDatagramOSCDialectNoNul(t *testing.T) {
	_, _, _, errToken := parseDatagram([]byte("/top/say"))
	if errToken != "fmt\n" {
		t.Fatalf("errToken = %q, want fmt\\n", errToken)
	}
}

func TestParseDatagramEmpty(t *testing.T) {
	_, _, _, errToken := parseDatagram(nil)
	if errToken != "fmt\n" {
		t.Fatalf("errToken = %q, want fmt\\n", errToken)
	}
}

func TestResolveAddressExactMatch(t *testing.T) {
	root := tree.NewRoot("root")
	tr := tree.NewTree(root)
	child, err := tr.InsertChild(root, "child")
	if err != nil {
		t.Fatal(err)
	}

	n, suffix, ok := resolveAddress(tr, "root/child")
	if !ok || n != child || suffix != "" {
		t.Fatalf("got (%v,%q,%v)", n, suffix, ok)
	}
}

func TestResolveAddressLongestPrefix(t *testing.T) {
	root := tree.NewRoot("root")
	tr := tree.NewTree(root)
	child, err := tr.InsertChild(root, "child")
	if err != nil {
		t.Fatal(err)
	}

	n, suffix, ok := resolveAddress(tr, "root/child/extra/path")
	if !ok || n != child || suffix != "extra/path" {
		t.Fatalf("got (%v,%q,%v)", n, suffix, ok)
	}
}

func TestResolveAddressAlias(t *testing.T) {
	root := tree.NewRoot("root")
	tr := tree.NewTree(root)
	if err := tr.SetAlias(root, "top"); err != nil {
		t.Fatal(err)
	}

	n, suffix, ok := resolveAddress(tr, "top/say")
	if !ok || n != root || suffix != "say" {
		t.Fatalf("got (%v,%q,%v)", n, suffix, ok)
	}
}

func TestResolveAddressMiss(t *testing.T) {
	root := tree.NewRoot("root")
	tr := tree.NewTree(root)

	_, _, ok := resolveAddress(tr, "nosuchpath/at/all")
	if ok {
		t.Fatal("expected no match")
	}
}
