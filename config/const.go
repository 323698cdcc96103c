//  Copyright (c) 2023 Uber Technologies, Inc.
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

package config

// This file hosts non-user-configurable parameters --- these are for development and testing purposes only.

// FixpointSlack is added to every factor of the fixpoint iteration bound (blocks × lattice height ×
// facts) so that empty methods and stores without facts still get a few rounds. Exceeding the bound
// means the transfer functions are not monotone and is reported as an internal error.
const FixpointSlack = 1

// DefaultExprCacheSize is the number of parsed flow-expression syntax trees kept in the cache.
const DefaultExprCacheSize = 1024

// SuppressAll is the @SuppressWarnings value that suppresses every diagnostic of the checker.
const SuppressAll = "all"

// MapClass is the simple name of the map interface whose `get` is refined by key-for facts.
const MapClass = "Map"
