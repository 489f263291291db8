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

package model

import "encoding/json"

type phyFields Phy

// MarshalJSON includes the ordered vif list.
func (p *Phy) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		*phyFields
		Vifs []*Vif `json:"vifs"`
	}{
		phyFields: (*phyFields)(p),
		Vifs:      p.Vifs(),
	})
}

// MarshalJSON encodes the tree as an ordered list of phys.
func (t *PhyTree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Phys())
}
