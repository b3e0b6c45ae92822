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

package registry

import "fmt"

// NewACR publishes to Azure Container Registry with service principal
// credentials (client id as username, secret as token). Tags are <env>-<short commit>.
func NewACR(name string, c Conf, deps Deps) (Registry, error) {
	host := c.Host
	if host == "" {
		if c.Name == "" {
			return nil, fmt.Errorf("acr needs either Host or Name")
		}
		host = c.Name + ".azurecr.io"
	}
	return newRemote("acr", name, host, "", c,
		staticCredentials(c.Username, c.Token, host), envTag, deps)
}
