// Copyright 2025 The Krill Authors.
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

package krill

// System call numbers. Zero is deliberately unassigned: a zeroed register
// must never name a valid system call. The numbering is loaded into EAX by
// user programs and is frozen; new calls may only be appended.
const (
	SysHalt       = 1
	SysExecute    = 2
	SysRead       = 3
	SysWrite      = 4
	SysOpen       = 5
	SysClose      = 6
	SysGetargs    = 7
	SysVidmap     = 8
	SysSetHandler = 9
	SysSigreturn  = 10

	// MaxSyscall is the highest assigned system call number.
	MaxSyscall = 10
)
