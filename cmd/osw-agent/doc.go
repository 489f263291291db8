// Copyright (c) 2018 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Osw-agent runs the OpenSync wireless stack: radio drivers report the
// live state of phys, vifs and stations, and the confsync engine keeps
// pushing the desired configuration to the drivers until the two agree.
//
// The desired configuration is read from the file given to the conf
// plugin and can be inspected or reloaded over REST.
package main
