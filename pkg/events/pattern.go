// Copyright 2025 Kadir Pekel
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

package events

import "strings"

// MatchPattern reports whether the dotted event type matches the
// dot-separated glob pattern. "*" matches exactly one segment and "**"
// matches any suffix, including the empty one.
func MatchPattern(pattern, eventType string) bool {
	if pattern == "" {
		return false
	}
	return matchSegments(strings.Split(pattern, "."), strings.Split(eventType, "."))
}

func matchSegments(pat, typ []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "**":
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(typ); i++ {
				if matchSegments(pat[1:], typ[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(typ) == 0 {
				return false
			}
		default:
			if len(typ) == 0 || pat[0] != typ[0] {
				return false
			}
		}
		pat = pat[1:]
		typ = typ[1:]
	}
	return len(typ) == 0
}
