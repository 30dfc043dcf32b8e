package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sys/cpu"
)

var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lsqfit version %s\n", version)
		fmt.Printf("%s/%s %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
		fmt.Printf("cpu features: %s\n", cpuFeatures())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// cpuFeatures lists the host CPU features reported by x/sys/cpu.
func cpuFeatures() string {
	var s string
	add := func(name string, ok bool) {
		if !ok {
			return
		}
		if s != "" {
			s += " "
		}
		s += name
	}
	add("sse4.1", cpu.X86.HasSSE41)
	add("avx", cpu.X86.HasAVX)
	add("avx2", cpu.X86.HasAVX2)
	add("fma", cpu.X86.HasFMA)
	add("asimd", cpu.ARM64.HasASIMD)
	if s == "" {
		return "none"
	}
	return s
}
