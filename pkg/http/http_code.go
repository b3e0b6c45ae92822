// Copyright 2025 Arcade Team
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

package http

var (
	Success = &Response{Code: 200, Msg: "Request Success"}

	BadRequest                    = failed(4000, "Bad request")
	RequestParameterParsingFailed = failed(4001, "Request parameter parsing failed")
	Unauthorized                  = failed(4401, "Unauthorized")
	NotFound                      = failed(4004, "Not found")
	InternalError                 = failed(5000, "Internal error, please contact the administrator")

	RunNotFound         = failed(4101, "Pipeline run not found")
	RunAlreadyFinished  = failed(4102, "Pipeline run already finished")
	ApprovalNotFound    = failed(4201, "Approval request not found")
	ApprovalNotPending  = failed(4202, "Approval request is not pending")
	TriggerNotSupported = failed(4301, "Trigger is not supported")
)

func failed(code int, msg string) *Response {
	return &Response{Code: code, Msg: msg}
}
