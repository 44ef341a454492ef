// tools/time.go

package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// TimeTool reports the current time so the model can reason about dates
type TimeTool struct {
	now func() time.Time
}

// NewTimeTool creates a time tool using the wall clock
func NewTimeTool() *TimeTool {
	return &TimeTool{now: time.Now}
}

// Tool returns the current_time tool
func (t *TimeTool) Tool() Tool {
	return Func(mcp.Tool{
		Name:        "current_time",
		Description: "Get the current local date and time, optionally in another IANA time zone",
		InputSchema: objectSchema(map[string]interface{}{
			"timezone": prop("string", "IANA time zone name such as Europe/Paris. Defaults to local time."),
		}),
	}, t.execute)
}

type timeArgs struct {
	Timezone string `json:"timezone"`
}

func (t *TimeTool) execute(ctx context.Context, args timeArgs) (any, error) {
	now := t.now()
	if args.Timezone != "" {
		loc, err := time.LoadLocation(args.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown time zone: %s", args.Timezone)
		}
		now = now.In(loc)
	}

	return map[string]interface{}{
		"time":     now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": now.Location().String(),
	}, nil
}
