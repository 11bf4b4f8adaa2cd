// Copyright 2024 ReelRank Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	_ "net/http/pprof"

	"github.com/emicklei/go-restful/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelrank/reelrank/base/log"
	"github.com/reelrank/reelrank/config"
	"github.com/reelrank/reelrank/logics"
	"github.com/reelrank/reelrank/model/svd"
	"github.com/reelrank/reelrank/server"
	"github.com/reelrank/reelrank/storage/data"
)

const version = "0.1.0"

var reelrankCommand = &cobra.Command{
	Use:   "reelrank",
	Short: "The movie recommendation server.",
	Run: func(cmd *cobra.Command, args []string) {
		// show version
		showVersion, _ := cmd.PersistentFlags().GetBool("version")
		if showVersion {
			fmt.Println("reelrank version", version)
			return
		}
		// setup logger
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)

		// load config
		configPath, _ := cmd.PersistentFlags().GetString("config")
		log.Logger().Info("load config", zap.String("config", configPath))
		conf, err := config.LoadConfig(configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}

		// connect data store
		database, err := data.Open(conf.Database.DataStore, conf.Database.TablePrefix)
		if err != nil {
			log.Logger().Fatal("failed to connect data store",
				zap.String("data_store", log.RedactDBURL(conf.Database.DataStore)), zap.Error(err))
		}
		if err = database.Init(); err != nil {
			log.Logger().Fatal("failed to init data store", zap.Error(err))
		}

		// load scoring model
		oracle := svd.NewStore(conf.Recommend.ModelPath)
		if oracle.Loaded() {
			log.Logger().Info("scoring model ready", zap.String("model_path", conf.Recommend.ModelPath))
		}

		// start server
		s := &server.RestServer{
			DataClient:  database,
			Oracle:      oracle,
			Recommender: logics.NewRecommender(database, oracle, conf),
			Config:      conf,
			HttpHost:    conf.Server.HttpHost,
			HttpPort:    conf.Server.HttpPort,
			WebService:  new(restful.WebService),
		}
		s.StartHttpServer()
	},
}

func init() {
	reelrankCommand.PersistentFlags().BoolP("version", "v", false, "reelrank version")
	reelrankCommand.PersistentFlags().StringP("config", "c", "config.toml", "configuration file path")
	reelrankCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	log.AddFlags(reelrankCommand.PersistentFlags())
}

func main() {
	if err := reelrankCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
