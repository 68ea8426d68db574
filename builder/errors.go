/*
	Copyright 2025 Google Inc.

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

package builder

import (
	"errors"
	"fmt"

	"github.com/ilhamster/execgraph/kernel"
)

// ErrFinished is returned by Build and BuildAll once Finish has been called.
var ErrFinished = errors.New("graph construction is finished")

// OutOfOrderEventError reports an event whose timestamp precedes that of the
// previous event of the same host.  Construction of that host stops at the
// previous event.
type OutOfOrderEventError struct {
	Host      string
	Timestamp int64
	Previous  int64
}

func (e *OutOfOrderEventError) Error() string {
	return fmt.Sprintf("host %s: event at %d follows an event at %d", e.Host, e.Timestamp, e.Previous)
}

// UnlinkableFlowError reports a network flow whose send and receive could
// not be linked, typically because of clock skew between hosts.
type UnlinkableFlowError struct {
	Flow  kernel.FlowKey
	Cause error
}

func (e *UnlinkableFlowError) Error() string {
	return fmt.Sprintf("cannot link flow %s: %v", e.Flow, e.Cause)
}

func (e *UnlinkableFlowError) Unwrap() error {
	return e.Cause
}
