//go:build !gcp

package media

import (
	"context"
	"errors"

	"github.com/inkwell-labs/forum/pkg/config"
)

func newGCSFromConfig(context.Context, config.MediaConfig) (Store, error) {
	return nil, errors.New("media: gcs backend requires a build with -tags gcp")
}
