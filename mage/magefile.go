//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

const (
	DOCKER_FILE = "../docker-compose.yml"
	BINARY_NAME = "../bin/pickup-chat"
	MAIN_PATH   = "../cmd/chat"
)

func DockerUp() error {
	fmt.Println("🚀 Starting archive Postgres container...")
	return runCmd("docker-compose", "-f", DOCKER_FILE, "up", "-d")
}

func DockerDown() error {
	fmt.Println("🛑 Stopping archive Postgres container...")
	return runCmd("docker-compose", "-f", DOCKER_FILE, "down")
}

func Build() error {
	fmt.Println("🔨 Building chat client binary...")
	return runCmd("go", "build", "-o", BINARY_NAME, MAIN_PATH)
}

func Test() error {
	fmt.Println("🧪 Running tests...")
	return runCmd("go", "test", "../...")
}

func Vet() error {
	return runCmd("go", "vet", "../...")
}

func Clean() {
	fmt.Println("🧹 Cleaning up...")
	os.Remove(BINARY_NAME)
	mg.Deps(DockerDown)
}

func runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
