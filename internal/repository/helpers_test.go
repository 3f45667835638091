package repository

import (
	"io"

	"github.com/rs/zerolog"
)

func zerologDiscard() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}
