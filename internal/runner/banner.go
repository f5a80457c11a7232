package runner

import (
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/pingmap/pkg/version"
)

const banner = `
       _
  ___ (_)___  ___ _  __ _  ___ ____  ___
 / _ \/ / _ \/ _ '/ /  ' \/ _ '/ _ \
/ .__/_/_//_/\_, / /_/_/_/\_,_/ .__/
/_/         /___/            /_/
`

// showBanner is used to show the banner to the user
func showBanner() {
	gologger.Print().Msgf("%s %s\n", banner, version.GetVersion())
	gologger.Print().Msgf("\t\tprojectdiscovery.io\n\n")
}
