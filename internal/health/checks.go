package health

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// DirWritable returns a Checker that passes when a file can be created in
// dir. It guards the session directory that clips and events are written to.
func DirWritable(name, dir string) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := os.CreateTemp(dir, ".readyz-*")
			if err != nil {
				return fmt.Errorf("not writable: %w", err)
			}
			p := f.Name()
			return errors.Join(f.Close(), os.Remove(p))
		},
	}
}

// Pinger is implemented by dependencies that can report their own
// reachability, such as the PostgreSQL event mirror.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns an optional Checker that delegates to p.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping, Optional: true}
}
