package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

type currentTimeParams struct {
	Timezone string `json:"timezone,omitempty"`
}

func (ts *toolset) currentTimeTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "current_time",
		Desc: "Get the current date and time, optionally in a specific IANA timezone.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"timezone": {
				Desc:     "IANA timezone name such as Europe/Lisbon. Defaults to UTC.",
				Type:     schema.String,
				Required: false,
			},
		}),
	}
	return utils.NewTool(info, ts.runCurrentTime)
}

func (ts *toolset) runCurrentTime(_ context.Context, params *currentTimeParams) (string, error) {
	loc := time.UTC
	if params != nil && params.Timezone != "" {
		parsed, err := time.LoadLocation(params.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", params.Timezone)
		}
		loc = parsed
	}
	now := time.Now().In(loc)
	return now.Format("Monday, January 2, 2006 15:04 MST"), nil
}
