package main

import "github.com/Photon-Health/client-sub003/cmd/photonctl/cmd"

func main() {
	cmd.Execute()
}
