package core

import (
	"io"

	"github.com/sirupsen/logrus"
)

func testLogEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}
