// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	headline = color.New(color.Bold).SprintFunc()
	accent   = color.New(color.FgCyan).SprintFunc()
	okMark   = color.New(color.FgGreen, color.Bold).SprintFunc()
	badMark  = color.New(color.FgRed, color.Bold).SprintFunc()
	warnText = color.New(color.FgYellow).SprintFunc()
)

var stdin = bufio.NewReader(os.Stdin)

// rule prints a titled horizontal section divider.
func rule(title string) {
	if title == "" {
		fmt.Println(strings.Repeat("─", 60))
		return
	}
	fmt.Printf("── %s %s\n", headline(title), strings.Repeat("─", max(0, 55-len(title))))
}

// panel prints an indented block of explanatory text.
func panel(text string) {
	fmt.Println()
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		fmt.Printf("  %s\n", line)
	}
	fmt.Println()
}

// askYN prompts for y/n input. Empty input returns the default.
func askYN(prompt string, defaultYes bool) bool {
	hint := "[Y/n]"
	if !defaultYes {
		hint = "[y/N]"
	}
	fmt.Printf("%s %s ", accent(prompt), hint)
	line, _ := stdin.ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	if line == "" {
		return defaultYes
	}
	return line == "y" || line == "yes"
}

// askString prompts for a line of input. Empty input returns the
// default.
func askString(prompt, def string) string {
	if def != "" {
		fmt.Printf("%s [%s] ", accent(prompt), def)
	} else {
		fmt.Printf("%s ", accent(prompt))
	}
	line, _ := stdin.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

// askChoice prompts until the answer's first letter matches one of
// choices. Empty input returns the default.
func askChoice(prompt string, choices []string, def string) string {
	for {
		fmt.Printf("%s [%s] ", accent(prompt), def)
		line, _ := stdin.ReadString('\n')
		line = strings.TrimSpace(strings.ToLower(line))
		if line == "" {
			return def
		}
		for _, c := range choices {
			if strings.HasPrefix(line, c) {
				return c
			}
		}
		fmt.Printf("Please answer one of: %s\n", strings.Join(choices, ", "))
	}
}

// readToken reads a secret without echoing when stdin is a terminal,
// falling back to a plain line read otherwise.
func readToken(prompt string) string {
	fmt.Printf("%s ", accent(prompt))
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
