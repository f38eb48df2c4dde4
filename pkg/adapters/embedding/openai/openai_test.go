package openai

import (
	"context"
	"testing"

	"github.com/wilhg/toolagent/pkg/errmodel"
)

func TestFactory_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := Factory(context.Background(), map[string]any{}); !errmodel.IsCode(err, errmodel.CategoryConfiguration, "missing_api_key") {
		t.Fatalf("err=%v want configuration/missing_api_key", err)
	}
}

func TestFactory_ReadsConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	e, err := Factory(context.Background(), map[string]any{"api_key": "sk-test", "model": "text-embedding-3-large", "dimensions": 256})
	if err != nil {
		t.Fatal(err)
	}
	c := e.(*embedClient)
	if c.model != "text-embedding-3-large" || c.dims != 256 {
		t.Fatalf("client=%+v", c)
	}
	if vecs, err := e.Embed(context.Background(), nil, nil); err != nil || vecs != nil {
		t.Fatalf("empty input: vecs=%v err=%v", vecs, err)
	}
}
