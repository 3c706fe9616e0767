// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/sessionauth/pkg/errutil"
)

// StorageFailure logs a backend error with its context and returns ErrStorage
// wrapped with the same code, so driver errors never leave the store.
// kv are alternating key/value pairs attached to both errors.
func StorageFailure(ctx context.Context, logger *slog.Logger, code string, err error, kv ...any) error {
	if logger == nil {
		logger = slog.Default()
	}
	errutil.LogErrorContext(ctx, logger, "storage operation failed", oops.Code(code).With(kv...).Wrap(err))
	return oops.Code(code).With(kv...).Wrap(ErrStorage)
}
