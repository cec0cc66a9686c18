/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package forward

import "fmt"

// ValveOutputErr is returned when the operator fails on a watermark or status emitted by the valve. It is fatal.
type ValveOutputErr struct {
	Output string
	Err    error
}

func (e ValveOutputErr) Error() string {
	return fmt.Sprintf("failed to forward %s to the operator: %v", e.Output, e.Err)
}

func (e ValveOutputErr) Unwrap() error {
	return e.Err
}
