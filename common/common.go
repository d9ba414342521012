package common

// PackageName is used as the metrics namespace and default service tag.
const PackageName = "agentsec"

// Version is overridden at build time via -ldflags.
var Version = "dev"
