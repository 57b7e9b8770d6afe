// The main package for the sitemap-crawler executable.
package main

import "github.com/JakeFAU/sitemap-crawler/cmd"

func main() {
	cmd.Execute()
}
