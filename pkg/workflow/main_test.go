package workflow_test

import (
	"io"
	"testing"

	"go.uber.org/goleak"

	"github.com/ncolesummers/open-study-agent/pkg/observability"
)

func TestMain(m *testing.M) {
	observability.SetLogOutput(io.Discard)
	goleak.VerifyTestMain(m)
}
