// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pidfile guards against running more than one replay or policy
// instance on a node at the same time.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	logger "github.com/intel/node-energy-policy/pkg/log"
)

var log = logger.NewLogger("pidfile")

// ErrLocked is returned when another live process owns the PID file.
var ErrLocked = errors.New("pidfile: owned by another process")

// PIDFile is a PID file held by this process.
type PIDFile struct {
	path string
	file *os.File
}

// New returns a PID file at path, or at the default path if path is empty.
func New(path string) *PIDFile {
	if path == "" {
		path = DefaultPath()
	}
	return &PIDFile{path: path}
}

// Path returns the path of the PID file.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire creates the PID file with our process ID. A file left behind by a
// process that no longer runs is taken over.
func (p *PIDFile) Acquire() error {
	if p.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return errors.Wrapf(err, "pidfile: failed to create directory for %q", p.path)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
				f.Close()
				os.Remove(p.path)
				return errors.Wrapf(err, "pidfile: failed to write %q", p.path)
			}
			p.file = f
			return nil
		}
		if !os.IsExist(err) {
			return errors.Wrapf(err, "pidfile: failed to create %q", p.path)
		}

		owner, err := p.Owner()
		if err != nil {
			return err
		}
		if owner != 0 {
			return errors.Wrapf(ErrLocked, "%q, PID %d", p.path, owner)
		}

		log.Warn("removing stale PID file %s", p.path)
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "pidfile: failed to remove stale %q", p.path)
		}
	}

	return errors.Wrapf(ErrLocked, "%q", p.path)
}

// Release removes the PID file if we hold it.
func (p *PIDFile) Release() error {
	if p.file == nil {
		return nil
	}
	p.file.Close()
	p.file = nil

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "pidfile: failed to remove %q", p.path)
	}
	return nil
}

// Read returns the process ID in the PID file, 0 if there is no file.
func (p *PIDFile) Read() (int, error) {
	buf, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrapf(err, "pidfile: failed to read %q", p.path)
	}

	content := strings.TrimSpace(string(buf))
	if content == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(content)
	if err != nil {
		return -1, errors.Wrapf(err, "pidfile: invalid PID %q in %q", content, p.path)
	}

	return pid, nil
}

// Owner returns the ID of the live process owning the PID file, 0 if no
// live process owns it.
func (p *PIDFile) Owner() (int, error) {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return pid, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return -1, errors.Wrapf(err, "pidfile: failed to find process %d", pid)
	}

	switch err := proc.Signal(syscall.Signal(0)); {
	case err == nil:
		return pid, nil
	case errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH):
		return 0, nil
	case errors.Is(err, syscall.EPERM):
		// alive, but owned by someone else
		return pid, nil
	default:
		return -1, errors.Wrapf(err, "pidfile: failed to check process %d", pid)
	}
}

// DefaultPath returns the default PID file path of the running binary.
func DefaultPath() string {
	name := "energy-policy"
	if len(os.Args) > 0 {
		name = filepath.Base(os.Args[0])
	}
	if os.Geteuid() > 0 {
		return filepath.Join(os.TempDir(), name+".pid")
	}
	return filepath.Join("/run", name+".pid")
}
