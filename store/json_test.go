package store

import (
	"testing"
)

type jtest struct {
	Name string
	Age  int
}

func TestJSON(t *testing.T) {
	memory := NewMemory()
	js := NewJSON(memory)

	first := jtest{Name: "Petra", Age: 30}
	if err := js.Save("petra", &first); err != nil {
		t.Fatalf("Got err = %s, expected nil", err.Error())
	}
	second := new(jtest)
	if err := js.Open("petra", second); err != nil {
		t.Fatalf("Got err = %s, expected nil", err.Error())
	}
	if *second != first {
		t.Fatalf("Got %#v, expected %#v", second, first)
	}

	data, _ := ReadAll(memory, "petra")
	const goal = "{\n  \"Name\": \"Petra\",\n  \"Age\": 30\n}\n"
	if string(data) != goal {
		t.Errorf("Got %q, expected %q", data, goal)
	}

	if err := js.Open("missing", second); err != ErrNotFound {
		t.Errorf("Got %v, expected ErrNotFound", err)
	}
	WriteAll(memory, "bad", []byte("{not json"))
	if _, ok := js.Open("bad", second).(*DecodeError); !ok {
		t.Error("expected a *DecodeError")
	}
}
