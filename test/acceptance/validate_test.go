package acceptance_test

import (
	"os/exec"
	"path/filepath"
	"runtime"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testdataPath(name string) string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "testdata", name)
}

var _ = Describe("loom validate", func() {
	Context("with a valid settings file", func() {
		It("exits with code 0", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("valid.yaml"))
			err := cmd.Run()
			Expect(err).NotTo(HaveOccurred())
		})

		It("prints a success message", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("valid.yaml"))
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(ContainSubstring("valid"))
		})
	})

	Context("with invalid YAML syntax", func() {
		It("exits with a non-zero code", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("invalid_yaml.yaml"))
			err := cmd.Run()
			Expect(err).To(HaveOccurred())
		})

		It("reports a YAML parse error", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("invalid_yaml.yaml"))
			output, _ := cmd.CombinedOutput()
			Expect(string(output)).To(ContainSubstring("parsing YAML"))
		})
	})

	Context("with a missing agent name", func() {
		It("exits with a non-zero code", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("missing_fields.yaml"))
			err := cmd.Run()
			Expect(err).To(HaveOccurred())
		})

		It("reports the missing field", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("missing_fields.yaml"))
			output, _ := cmd.CombinedOutput()
			Expect(string(output)).To(ContainSubstring("automation.agent.name is required"))
		})
	})

	Context("with a negative max_iterations", func() {
		It("exits with a non-zero code", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("negative_max_iterations.yaml"))
			err := cmd.Run()
			Expect(err).To(HaveOccurred())
		})

		It("reports the invalid value", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("negative_max_iterations.yaml"))
			output, _ := cmd.CombinedOutput()
			Expect(string(output)).To(ContainSubstring("must not be negative"))
		})
	})

	Context("with a nonexistent file", func() {
		It("exits with a non-zero code", func() {
			cmd := exec.Command(binaryPath, "validate", "/tmp/does-not-exist.yaml")
			err := cmd.Run()
			Expect(err).To(HaveOccurred())
		})
	})
})
