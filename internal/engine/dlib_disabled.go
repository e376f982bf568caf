//go:build !dlib

package engine

import "errors"

func newDlib(Config) (Engine, error) {
	return nil, errors.New("dlib backend not compiled in, rebuild with -tags dlib")
}
