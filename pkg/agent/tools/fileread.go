package tools

import (
	"context"
	"errors"
	"io/fs"
	"unicode/utf8"

	"github.com/wilhg/toolagent/pkg/agent"
)

// MaxFileBytes caps what fs.read returns; longer files are cut and flagged as truncated.
const MaxFileBytes = 64 << 10

type fileReadIn struct {
	Path string `json:"path" jsonschema:"slash-separated path relative to the sandbox root"`
}

type fileReadOut struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// NewFileRead returns the fs.read tool, which reads text files from the fsys sandbox only.
func NewFileRead(fsys fs.FS) (agent.Tool, error) {
	return agent.NewFunctionTool("fs.read", "Reads a text file from the sandboxed workspace.",
		func(ctx context.Context, in fileReadIn) (fileReadOut, error) {
			if fsys == nil {
				return fileReadOut{}, errors.New("no fs configured")
			}
			if in.Path == "" || !fs.ValidPath(in.Path) {
				return fileReadOut{}, errors.New("invalid path")
			}
			b, err := fs.ReadFile(fsys, in.Path)
			if err != nil {
				return fileReadOut{}, err
			}
			if !utf8.Valid(b) {
				return fileReadOut{}, errors.New("file is not UTF-8 text")
			}
			out := fileReadOut{Content: string(b)}
			if len(b) > MaxFileBytes {
				cut := MaxFileBytes
				for cut > 0 && !utf8.RuneStart(b[cut]) {
					cut--
				}
				out = fileReadOut{Content: string(b[:cut]), Truncated: true}
			}
			return out, nil
		},
		agent.ToolPermission{Name: PermFSRead, Description: "read files under the sandbox root"},
	)
}
