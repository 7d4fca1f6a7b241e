package pathfinder

import "testing"

func TestPrettifyNameContainerElement(t *testing.T) {
	got := PrettifyName("a:b.i.j")
	want := "a[i,j].b"
	if got != want {
		t.Errorf("PrettifyName(%q) = %q, want %q", "a:b.i.j", got, want)
	}
}

func TestPrettifyNamePlainArrayIndex(t *testing.T) {
	got := PrettifyName("theta.1.2")
	want := "theta[1,2]"
	if got != want {
		t.Errorf("PrettifyName(%q) = %q, want %q", "theta.1.2", got, want)
	}
}

func TestPrettifyNameScalarUnchanged(t *testing.T) {
	if got := PrettifyName("sigma"); got != "sigma" {
		t.Errorf("PrettifyName(%q) = %q, want unchanged", "sigma", got)
	}
}
