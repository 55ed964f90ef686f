//go:build !linux

package engine

func newProcessEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	return NewUnsupportedEngine("process sandbox is only supported on linux"), nil
}
