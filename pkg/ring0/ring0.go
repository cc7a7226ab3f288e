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

// Package ring0 provides the lowest layer of the machine: interrupt vectors,
// gate descriptors, the vector table and the processor itself. The hardware
// is simulated, but the structures are bit-accurate, so the table the kernel
// builds here is the table a 32-bit protected mode processor would load.
package ring0
