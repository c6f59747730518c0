package models

import (
	"sort"
	"strings"
)

// TableRegistry is the master-data allow-list: every fully qualified table the CDC pipeline may
// emit and the sinker may write, mapped to its primary key columns
var TableRegistry = map[string][]string{
	// auth
	"auth.auth_users": {"id"},
	// notification
	"notification.user_contact_details": {"referencedatauserid"},
	// referencedata
	"referencedata.commodity_types":                     {"id"},
	"referencedata.dispensables":                        {"id"},
	"referencedata.facilities":                          {"id"},
	"referencedata.facility_operators":                  {"id"},
	"referencedata.facility_type_approved_products":     {"id", "versionnumber"},
	"referencedata.facility_types":                      {"id"},
	"referencedata.geographic_levels":                   {"id"},
	"referencedata.geographic_zones":                    {"id"},
	"referencedata.ideal_stock_amounts":                 {"id"},
	"referencedata.lots":                                {"id"},
	"referencedata.orderable_children":                  {"id"},
	"referencedata.orderable_display_categories":        {"id"},
	"referencedata.orderable_identifiers":               {"id"},
	"referencedata.orderables":                          {"id", "versionnumber"},
	"referencedata.processing_periods":                  {"id"},
	"referencedata.processing_schedules":                {"id"},
	"referencedata.program_orderables":                  {"id"},
	"referencedata.programs":                            {"id"},
	"referencedata.requisition_group_members":           {"requisitiongroupid", "facilityid"},
	"referencedata.requisition_group_program_schedules": {"id"},
	"referencedata.requisition_groups":                  {"id"},
	"referencedata.right_assignments":                   {"id"},
	"referencedata.rights":                              {"id"},
	"referencedata.role_assignments":                    {"id"},
	"referencedata.role_rights":                         {"roleid", "rightid"},
	"referencedata.roles":                               {"id"},
	"referencedata.service_accounts":                    {"token"},
	"referencedata.supervisory_nodes":                   {"id"},
	"referencedata.supply_lines":                        {"id"},
	"referencedata.supply_partner_associations":         {"id"},
	"referencedata.supply_partners":                     {"id"},
	"referencedata.supported_programs":                  {"id"},
	"referencedata.trade_item_classifications":          {"id"},
	"referencedata.trade_items":                         {"id"},
	"referencedata.users":                               {"id"},
	// association join table
	"referencedata.supply_partner_association_facilities": {"supplypartnerassociationid", "facilityid"},
	// requisition
	"requisition.available_requisition_column_options": {"id"},
	"requisition.available_requisition_column_sources": {"columnid", "value"},
	"requisition.available_requisition_columns":        {"id"},
	"requisition.columns_maps":                         {"requisitiontemplateid", "key"},
	"requisition.requisition_template_assignments":     {"id"},
	"requisition.requisition_templates":                {"id"},
	// stockmanagement
	"stockmanagement.nodes":                         {"id"},
	"stockmanagement.organizations":                 {"id"},
	"stockmanagement.stock_card_line_item_reasons":  {"id"},
	"stockmanagement.valid_destination_assignments": {"id"},
	"stockmanagement.valid_reason_assignments":      {"id"},
	"stockmanagement.valid_source_assignments":      {"id"},
	// siglusintegration
	"siglusintegration.available_usage_column_sections": {"id"},
	"siglusintegration.available_usage_columns":         {"id"},
	"siglusintegration.basic_product_codes":             {"id"},
	"siglusintegration.custom_products_regimens":        {"id"},
	"siglusintegration.facility_extension":              {"id"},
	"siglusintegration.facility_locations":              {"id"},
	"siglusintegration.facility_type_mapping":           {"id"},
	"siglusintegration.processing_period_extension":     {"id"},
	"siglusintegration.program_additional_orderables":   {"id"},
	"siglusintegration.program_orderables_extension":    {"id"},
	"siglusintegration.program_real_program":            {"id"},
	"siglusintegration.regimen_categories":              {"id"},
	"siglusintegration.regimen_dispatch_lines":          {"id"},
	"siglusintegration.regimens":                        {"id"},
	"siglusintegration.report_types":                    {"id"},
	"siglusintegration.requisition_template_extension":  {"id"},
	"siglusintegration.usage_columns_maps":              {"id"},
	"siglusintegration.usage_sections_maps":             {"id"},
}

// SnapshotIncompatibleTables lists tables without a surrogate key; a differential snapshot cannot
// track their deletions so any change evicts every cached snapshot
var SnapshotIncompatibleTables = map[string]bool{
	"referencedata.requisition_group_members":             true,
	"referencedata.role_rights":                           true,
	"referencedata.supply_partner_association_facilities": true,
	"requisition.columns_maps":                            true,
}

// Synced tables and columns that carry business side effects on replay
const (
	FacilityExtensionTable         = "siglusintegration.facility_extension"
	RoleAssignmentsTable           = "referencedata.role_assignments"
	EnableLocationManagementColumn = "enablelocationmanagement"
)

// QualifiedName lower-cases and joins a schema and table
func QualifiedName(schema, table string) string {
	schema = strings.ToLower(strings.TrimSpace(schema))
	table = strings.ToLower(strings.TrimSpace(table))
	if schema == "" {
		return table
	}
	return schema + "." + table
}

// PrimaryKeys returns the registered key columns of a table and whether the table is allowed
func PrimaryKeys(qualifiedTable string) ([]string, bool) {
	pks, ok := TableRegistry[strings.ToLower(qualifiedTable)]
	return pks, ok
}

// AcceptedTableNames returns the allow-list sorted by name
func AcceptedTableNames() []string {
	names := make([]string, 0, len(TableRegistry))
	for name := range TableRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
