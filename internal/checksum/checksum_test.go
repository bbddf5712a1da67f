package checksum

import "testing"

func TestSum(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Sum([]byte("abc")); got != want {
		t.Fatalf("Sum = %s", got)
	}
}

func TestText(t *testing.T) {
	if Text("  \n\t ") != "" {
		t.Fatal("blank text should have no checksum")
	}
	a := Text("hello   world\n")
	b := Text("hello world")
	if a != b {
		t.Fatalf("layout-only difference changed checksum: %s vs %s", a, b)
	}
	if a == Text("hello world!") {
		t.Fatal("different text should differ")
	}
}
