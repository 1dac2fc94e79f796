//go:build !unix

package cmd

import (
	"github.com/agentic-research/partbom/internal/events"
	"go.uber.org/zap"
)

func watchSignals(*events.Bus, *zap.Logger) (stop func()) { return func() {} }
