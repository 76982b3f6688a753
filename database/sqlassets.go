package sqlassets

import _ "embed"

//go:embed schema/central/tenants.sql
var CentralTenantsSQL string

//go:embed schema/tenant/roles.sql
var RolesSQL string

//go:embed schema/tenant/facilities.sql
var FacilitiesSQL string

//go:embed schema/tenant/users.sql
var UsersSQL string

//go:embed schema/tenant/patients.sql
var PatientsSQL string

//go:embed schema/tenant/appointments.sql
var AppointmentsSQL string

//go:embed schema/tenant/billing_documents.sql
var BillingDocumentsSQL string

//go:embed schema/tenant/consents.sql
var ConsentsSQL string

//go:embed schema/tenant/seed_roles.sql
var SeedRolesSQL string

//go:embed schema/tenant/seed_facilities.sql
var SeedFacilitiesSQL string
