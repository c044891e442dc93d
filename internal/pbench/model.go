package pbench

import (
	"errors"
	"fmt"
	"strings"
)

// Model is a concurrency model under comparison.
type Model string

const (
	// ModelThread services every connection on a dedicated OS thread.
	ModelThread Model = "thread"
	// ModelTask services every connection as a goroutine parked on the runtime netpoller.
	ModelTask Model = "task"
	// ModelReactor answers requests from callbacks on a multi-core epoll/kqueue loop.
	ModelReactor Model = "reactor"
)

var (
	ErrUnknownModel = errors.New("unknown concurrency model")

	// Models lists every model in report order.
	Models = []Model{ModelThread, ModelTask, ModelReactor}
)

func ParseModel(s string) (Model, error) {
	m := Model(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Models {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
}

// pinned reports whether the model's workers own an OS thread each.
func (m Model) pinned() bool {
	return m == ModelThread
}

func (m Model) String() string {
	return string(m)
}
