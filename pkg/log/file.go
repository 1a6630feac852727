// Copyright 2024 The gVisor Authors.
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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileOpts expands variables in a log file pattern.
type FileOpts interface {
	// Build returns the log file path for the given pattern.
	Build(logPattern string) string
}

// OpenFile appends to the log file named by logPattern after expansion by
// opts, creating it and its directory as needed. An empty pattern yields a
// nil file and no error. A pattern ending in a separator names a directory,
// and the file "vaspace.log" inside it is used.
func OpenFile(logPattern string, opts FileOpts) (*os.File, error) {
	if logPattern == "" {
		return nil, nil
	}
	logPath := opts.Build(logPattern)
	if strings.HasSuffix(logPath, string(filepath.Separator)) {
		logPath = filepath.Join(logPath, "vaspace.log")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0775); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
