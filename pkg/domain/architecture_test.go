package domain_test

import (
	"testing"

	"labcore/testutil"
)

// TestDomainStaysPure keeps the domain free of internal packages, storage
// drivers and transports.
func TestDomainStaysPure(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain must not import internal packages")
	testutil.AssertNoTransitiveDependency(t, ".", ".", testutil.InfrastructureImportForbidden, "domain must not pull in infrastructure")
}
