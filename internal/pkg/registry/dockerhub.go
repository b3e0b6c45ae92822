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

const dockerHubAuthServer = "https://index.docker.io/v1/"

// NewDockerHub publishes to Docker Hub. Image references use docker.io while
// the registry API lives on registry-1.docker.io. Tags are the short commit.
func NewDockerHub(name string, c Conf, deps Deps) (Registry, error) {
	apiURL := ""
	if c.Host == "" {
		apiURL = "https://registry-1.docker.io"
	}
	return newRemote("dockerhub", name, "docker.io", apiURL, c,
		staticCredentials(c.Username, c.Token, dockerHubAuthServer), plainTag, deps)
}
