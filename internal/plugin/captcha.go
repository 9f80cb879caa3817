package plugin

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/captcha"
)

// SolveCaptcha offers the artifact to the registered solvers and blocks until
// an answer arrives or the wait deadline passes. The file is marked waiting
// meanwhile. The returned task is used to report the verdict.
func SolveCaptcha(ctx context.Context, coord *captcha.Coordinator, f File, artifact []byte, format string) (*captcha.Task, string, error) {
	if coord == nil {
		return nil, "", captcha.ErrUnclaimed
	}
	task := captcha.NewTask(f.ID(), artifact, format)
	if err := f.SetStatus("waiting"); err != nil {
		return nil, "", err
	}
	defer coord.Remove(task.ID)
	if coord.Offer(ctx, task) == 0 {
		return task, "", captcha.ErrUnclaimed
	}
	result, err := task.Wait(ctx)
	if err != nil {
		log.Warn().Str("op", "plugin/captcha").Int("file", f.ID()).Err(err).Msg("Captcha not solved")
		return task, "", fmt.Errorf("captcha for file %d: %w", f.ID(), err)
	}
	if err := f.SetStatus("downloading"); err != nil {
		return task, result, err
	}
	return task, result, nil
}
