// Copyright 2023 QuarkDB
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logutil

import (
	"go.uber.org/zap"
)

// QueryIDField returns the zap field of the query id.
func QueryIDField(id string) zap.Field {
	return zap.String("query-id", id)
}

// FragmentInstanceIDField returns the zap field of the fragment instance id.
func FragmentInstanceIDField(id string) zap.Field {
	return zap.String("fragment-instance-id", id)
}

func PipelineIDField(id int32) zap.Field {
	return zap.Int32("pipeline-id", id)
}

func DriverIDField(id int32) zap.Field {
	return zap.Int32("driver-id", id)
}

func ErrorField(err error) zap.Field {
	return zap.Error(err)
}
