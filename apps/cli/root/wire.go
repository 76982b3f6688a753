package root

import (
	tenantcmd "github.com/clinicore/clinicore-backend/apps/cli/cmd/tenant"
)

func init() {
	Root().AddCommand(tenantcmd.Command())
}
