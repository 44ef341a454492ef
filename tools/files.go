// tools/files.go
package tools

import (
	"context"
	"encoding/base64"
	"math/rand/v2"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sammcj/deskchat/types"
)

// MakeFileTool creates a downloadable text file for the user
func MakeFileTool() Tool {
	return PayloadFunc(mcp.Tool{
		Name:        "make_file",
		Description: "Creates a file which is then made available to user",
		InputSchema: objectSchema(map[string]interface{}{
			"content": prop("string", "The content to be included in the file"),
		}, "content"),
	}, makeFile)
}

type makeFileArgs struct {
	Content string `json:"content"`
}

func makeFile(ctx context.Context, args makeFileArgs) ToolPayload {
	name, err := nanoid.New(10)
	if err != nil {
		name = "file"
	}
	url := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte(args.Content))
	return Success("Created file").WithUser(types.FileContent(name+".txt", url))
}

// RollDiceTool rolls a six-sided die after delay
func RollDiceTool(delay time.Duration) Tool {
	return Func(mcp.Tool{
		Name:        "roll_dice",
		Description: "Roll a 6-sided die",
		InputSchema: objectSchema(nil),
	}, func(ctx context.Context, _ NoArgs) (any, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return rand.IntN(6) + 1, nil
	})
}
