package pipeline

import (
	"github.com/S-Ungurean/healthdeploy/internal/build"
	"github.com/S-Ungurean/healthdeploy/internal/deploy"
	"github.com/S-Ungurean/healthdeploy/internal/source"
)

// Stage names in pipeline order.
const (
	StageSource           = "Source"
	StagePackage          = "Package"
	StageDeployToDev      = "DeployToDev"
	StageIntegrationTests = "IntegrationTests"
)

// Stages assembles the full pipeline in its fixed order: fetch sources,
// build and upload the workspace archive, roll it out to the dev fleet,
// then run the integration suite against the deployed fleet.
func Stages(collector *source.Collector, builder *build.Builder, executor *deploy.Executor) []Stage {
	return []Stage{
		FuncStage{StageSource, collector.Fetch},
		FuncStage{StagePackage, builder.Run},
		FuncStage{StageDeployToDev, executor.Deploy},
		FuncStage{StageIntegrationTests, executor.Test},
	}
}
