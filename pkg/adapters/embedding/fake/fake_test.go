package fake

import (
	"context"
	"math"
	"testing"

	"github.com/wilhg/toolagent/pkg/adapters/embedding"
)

func cos(a, b embedding.Vector) float64 {
	var d, na, nb float64
	for i := range a {
		d += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return d / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestEmbed_SharedWordsAreCloser(t *testing.T) {
	e := New(256)
	vecs, err := e.Embed(context.Background(), []string{"get the weather forecast", "weather forecast for paris", "add two numbers"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if near, far := cos(vecs[0], vecs[1]), cos(vecs[0], vecs[2]); near <= far {
		t.Fatalf("similarity near=%f far=%f", near, far)
	}
	again, _ := e.Embed(context.Background(), []string{"get the weather forecast"}, nil)
	for i := range again[0] {
		if again[0][i] != vecs[0][i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
	}
	if e.Calls() != 2 {
		t.Fatalf("calls=%d want 2", e.Calls())
	}
}

func TestEmbed_EmptyTextIsNonZero(t *testing.T) {
	vecs, err := New(4).Embed(context.Background(), []string{"  "}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 {
		t.Fatalf("vec=%v", vecs[0])
	}
}
